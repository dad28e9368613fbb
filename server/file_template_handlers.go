package server

import (
	"embed"
	"html/template"
	"io/fs"
	"strings"
	"time"
)

//go:embed templates/*
var templateFiles embed.FS

const displayTimeLayout = "2006-01-02 15:04:05 MST"

var templateFuncs = template.FuncMap{
	"join": strings.Join,
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format(displayTimeLayout)
	},
}

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses one page from the embedded templates with the page
// helpers (join, timestamp) available.
func ParseTemplate(name string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).ParseFS(TemplateFilesFS(), name)
}
