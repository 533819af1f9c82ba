package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpang/ai-virtual-stylist/internal/persona"
)

// ErrNoSelection is returned when input ends before a persona is chosen.
var ErrNoSelection = errors.New("no persona selected")

// PromptForPersona lists the personas on w and reads a choice from r, either
// by number or by name. Invalid entries are re-prompted.
func PromptForPersona(r io.Reader, w io.Writer) (persona.Persona, error) {
	all := persona.All()
	fmt.Fprintln(w, StyleHeader.Render("Choose a model persona:"))
	for i, p := range all {
		fmt.Fprintf(w, "  %s %s\n", StyleAccent.Render(strconv.Itoa(i+1)+")"), p.DisplayName())
	}

	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprintf(w, "Persona [1-%d]: ", len(all))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", fmt.Errorf("read persona: %w", err)
			}
			return "", ErrNoSelection
		}

		input := strings.TrimSpace(scanner.Text())
		if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(all) {
			return all[n-1], nil
		}
		if p, err := persona.Parse(input); err == nil {
			return p, nil
		}
		fmt.Fprintln(w, StyleWarning.Render(IconWarning+" Not a persona: "+input))
	}
}
