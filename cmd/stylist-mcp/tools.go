package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-virtual-stylist/internal/failure"
	"github.com/fpang/ai-virtual-stylist/internal/imagefile"
	"github.com/fpang/ai-virtual-stylist/internal/persona"
	"github.com/fpang/ai-virtual-stylist/internal/workflow"
)

const serverVersion = "1.0.0"

type imagePathInput struct {
	Path string `json:"path" jsonschema:"absolute path of a PNG, JPEG or WebP file"`
}

type personaInput struct {
	Persona string `json:"persona" jsonschema:"one of Korean, Chinese, European/American"`
}

type finalInput struct {
	Persona string `json:"persona,omitempty" jsonschema:"optional persona to select before generating"`
}

type noInput struct{}

// tools binds MCP tool handlers to a single workflow machine.
type tools struct {
	machine   *workflow.Machine
	outDir    string
	maxUpload int64
}

func newServer(m *workflow.Machine, outDir string, maxUpload int64) *mcp.Server {
	t := &tools{machine: m, outDir: outDir, maxUpload: maxUpload}

	server := mcp.NewServer(&mcp.Implementation{Name: "ai-virtual-stylist", Version: serverVersion}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_person_image",
		Description: "Load the photo of the person to dress. Clears any previous try-on result.",
	}, t.setPerson)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_garment_image",
		Description: "Load the photo of the garment to try on. Clears any previous try-on result.",
	}, t.setGarment)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_try_on",
		Description: "Dress the person in the garment and return the try-on image. Requires both images.",
	}, t.generateTryOn)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "select_persona",
		Description: "Choose the model persona for the final image. Requires a try-on image.",
	}, t.selectPersona)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "generate_final_image",
		Description: "Restyle the try-on image with the selected persona and return the final image.",
	}, t.generateFinal)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_state",
		Description: "Describe the current workflow state.",
	}, t.getState)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "save_images",
		Description: "Write the try-on and final images to the output directory.",
	}, t.saveImages)

	return server
}

func textResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	res := textResult(format, args...)
	res.IsError = true
	return res
}

// userMessage prefers the short message of a classified failure.
func userMessage(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func (t *tools) setPerson(ctx context.Context, req *mcp.CallToolRequest, in imagePathInput) (*mcp.CallToolResult, any, error) {
	return t.setImage(in.Path, "person", t.machine.SetCharacter), nil, nil
}

func (t *tools) setGarment(ctx context.Context, req *mcp.CallToolRequest, in imagePathInput) (*mcp.CallToolResult, any, error) {
	return t.setImage(in.Path, "garment", t.machine.SetGarment), nil, nil
}

func (t *tools) setImage(path, label string, set func(imagefile.ImageRecord) bool) *mcp.CallToolResult {
	if strings.TrimSpace(path) == "" {
		return errorResult("path is required")
	}
	rec, err := imagefile.LoadLimit(path, t.maxUpload)
	if err != nil {
		return errorResult("%s image rejected: %s", label, userMessage(err))
	}
	if !set(rec) {
		return errorResult("a generation is in progress; try again when it finishes")
	}
	return textResult("%s image loaded (%s, %d bytes)", label, rec.MIMEType(), rec.Size())
}

func (t *tools) generateTryOn(ctx context.Context, req *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	run, ok := t.machine.StartComposite(ctx)
	if !ok {
		st := t.machine.Snapshot()
		if st.Phase.Pending() {
			return errorResult("a generation is already in progress"), nil, nil
		}
		return errorResult("both a person image and a garment image are required"), nil, nil
	}
	return t.awaitStage(ctx, run, "Virtual try-on ready. Choose a persona to generate the final image."), nil, nil
}

func (t *tools) selectPersona(ctx context.Context, req *mcp.CallToolRequest, in personaInput) (*mcp.CallToolResult, any, error) {
	p, err := persona.Parse(in.Persona)
	if err != nil {
		return errorResult("%v", err), nil, nil
	}
	if !t.machine.SelectPersona(p) {
		return errorResult("a persona can be chosen only once a try-on image is ready"), nil, nil
	}
	return textResult("persona set to %s", p.DisplayName()), nil, nil
}

func (t *tools) generateFinal(ctx context.Context, req *mcp.CallToolRequest, in finalInput) (*mcp.CallToolResult, any, error) {
	if in.Persona != "" {
		if res, _, _ := t.selectPersona(ctx, req, personaInput{Persona: in.Persona}); res.IsError {
			return res, nil, nil
		}
	}
	run, ok := t.machine.StartRestyle(ctx)
	if !ok {
		st := t.machine.Snapshot()
		switch {
		case st.Phase.Pending():
			return errorResult("a generation is already in progress"), nil, nil
		case st.Composite == "":
			return errorResult("generate the try-on image first"), nil, nil
		default:
			return errorResult("select a persona first"), nil, nil
		}
	}
	return t.awaitStage(ctx, run, "Final image ready."), nil, nil
}

// awaitStage blocks until run resolves and returns its artifact as image
// content. A cancelled request cancels the generation as well.
func (t *tools) awaitStage(ctx context.Context, run *workflow.Run, done string) *mcp.CallToolResult {
	if err := run.Wait(ctx); err != nil {
		return errorResult("%s failed: %s", run.Stage(), userMessage(err))
	}

	rec, err := imagefile.ParseDataURL(run.Result())
	if err != nil {
		log.Error().Err(err).Str("stage", string(run.Stage())).Msg("Generated artifact is not a valid data URL")
		return errorResult("%s produced an unreadable image", run.Stage())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: done},
			&mcp.ImageContent{Data: rec.Data(), MIMEType: rec.MIMEType()},
		},
	}
}

func (t *tools) getState(ctx context.Context, req *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	return textResult("%s", describeState(t.machine.Snapshot())), nil, nil
}

func describeState(st workflow.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "phase: %s\n", st.Phase)
	fmt.Fprintf(&b, "person image: %s\n", describeRecord(st.Character))
	fmt.Fprintf(&b, "garment image: %s\n", describeRecord(st.Garment))
	fmt.Fprintf(&b, "try-on image: %t\n", st.Composite != "")
	if st.Persona != "" {
		fmt.Fprintf(&b, "persona: %s\n", st.Persona.DisplayName())
	}
	fmt.Fprintf(&b, "final image: %t\n", st.Final != "")
	if st.ActiveStage != "" {
		fmt.Fprintf(&b, "in progress: %s\n", st.ActiveStage)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "last error: %s\n", st.LastError)
	}
	return b.String()
}

func describeRecord(rec *imagefile.ImageRecord) string {
	if rec == nil {
		return "missing"
	}
	return fmt.Sprintf("%s, %d bytes", rec.MIMEType(), rec.Size())
}

func (t *tools) saveImages(ctx context.Context, req *mcp.CallToolRequest, _ noInput) (*mcp.CallToolResult, any, error) {
	st := t.machine.Snapshot()
	var saved []string
	for _, a := range []struct {
		name string
		url  imagefile.DataURL
	}{
		{"tryon", st.Composite},
		{"final", st.Final},
	} {
		if a.url == "" {
			continue
		}
		rec, err := imagefile.ParseDataURL(a.url)
		if err != nil {
			return errorResult("%s image is unreadable: %v", a.name, err), nil, nil
		}
		path, err := imagefile.Save(rec, t.outDir, a.name)
		if err != nil {
			return errorResult("failed to save %s image: %v", a.name, err), nil, nil
		}
		saved = append(saved, path)
	}
	if len(saved) == 0 {
		return errorResult("no generated images to save"), nil, nil
	}
	return textResult("saved:\n%s", strings.Join(saved, "\n")), nil, nil
}
