// Copyright Contributors to the Mellea project

package buildcache

import (
	"sort"
	"strings"
	"text/template"

	"github.com/mellea/controlplane/internal/model"
)

// baseImages maps an interpreter version to the base image the
// dependency-layer Dockerfile builds FROM. An implementer must not
// alter this mapping's keys casually: the cache key already commits to
// the interpreter version, so changing the base image for an existing
// version silently invalidates every cached layer built under it.
var baseImages = map[string]string{
	"3.11": "python:3.11-slim",
	"3.12": "python:3.12-slim",
	"3.13": "python:3.13-slim",
}

func baseImageFor(interpreterVersion string) string {
	if img, ok := baseImages[interpreterVersion]; ok {
		return img
	}
	return baseImages[model.DefaultInterpreterVersion]
}

var depsDockerfileTemplate = template.Must(template.New("deps").Parse(
	`FROM {{.BaseImage}}
WORKDIR /deps
COPY requirements.txt .
RUN --mount=type=cache,target=/root/.cache/pip pip install --no-cache-dir -r requirements.txt
`))

var progDockerfileTemplate = template.Must(template.New("prog").Parse(
	`FROM {{.DepsImageTag}}
WORKDIR /app
COPY . /app
ENV MELLEA_ENTRYPOINT={{.Entrypoint}}
CMD ["python", "{{.Entrypoint}}"]
`))

// requirementsFile renders the canonical, sorted requirements.txt
// contract: ordering is part of the cache identity and must match
// model.DependencySpec.Canonicalize's sort order exactly.
func requirementsFile(spec model.DependencySpec) string {
	packages := append([]model.PackageRef(nil), spec.Packages...)
	sort.Slice(packages, func(i, j int) bool {
		return strings.ToLower(packages[i].Name) < strings.ToLower(packages[j].Name)
	})

	var b strings.Builder
	for _, pkg := range packages {
		name := strings.ToLower(pkg.Name)
		extras := append([]string(nil), pkg.Extras...)
		for i := range extras {
			extras[i] = strings.ToLower(extras[i])
		}
		sort.Strings(extras)
		b.WriteString(name)
		if len(extras) > 0 {
			b.WriteString("[")
			b.WriteString(strings.Join(extras, ","))
			b.WriteString("]")
		}
		if pkg.Version != "" {
			b.WriteString("==")
			b.WriteString(pkg.Version)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderDepsDockerfile generates the dependency-layer Dockerfile and its
// accompanying requirements.txt context file.
func renderDepsDockerfile(spec model.DependencySpec) (dockerfile string, requirements string) {
	interpreterVersion := spec.InterpreterVersion
	if interpreterVersion == "" {
		interpreterVersion = model.DefaultInterpreterVersion
	}

	var b strings.Builder
	_ = depsDockerfileTemplate.Execute(&b, struct{ BaseImage string }{baseImageFor(interpreterVersion)})
	return b.String(), requirementsFile(spec)
}

// renderProgDockerfile generates the program-layer Dockerfile that
// copies the workspace on top of depsImageTag.
func renderProgDockerfile(depsImageTag, entrypoint string) string {
	var b strings.Builder
	_ = progDockerfileTemplate.Execute(&b, struct{ DepsImageTag, Entrypoint string }{depsImageTag, entrypoint})
	return b.String()
}
