// Package assets provides the prompt templates sent to the image model.
//
// Prompts are stored as text files under prompts/ and embedded at compile time
// so wording changes do not touch Go code.
package assets

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

// tryOnPrompt dresses the person from the first image in the garment from
// the second image.
//
//go:embed prompts/tryon.txt
var tryOnPrompt string

//go:embed prompts/restyle.txt
var restyleTemplate string

// template.Must panics on a malformed template, which surfaces at startup.
var restylePromptTmpl = template.Must(template.New("restyle").Parse(restyleTemplate))

// RestylePromptData holds the dynamic data injected into the restyle template.
type RestylePromptData struct {
	// Persona is the persona value, e.g. "Korean" or "European/American".
	Persona string
}

// TryOnPrompt returns the stage-one instruction.
func TryOnPrompt() string {
	return strings.TrimSpace(tryOnPrompt)
}

// RenderRestylePrompt renders the stage-two instruction for a persona.
func RenderRestylePrompt(persona string) (string, error) {
	return render(restylePromptTmpl, RestylePromptData{Persona: persona})
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
