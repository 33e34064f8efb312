package wormhole

import (
	"strings"

	"github.com/buildcoprojects/signalhub/pkg/contracts"
)

// Command is an operator request submitted on the privileged endpoint.
type Command struct {
	Command         string `json:"command"`
	Artefact        string `json:"artefact"`
	ArtefactContent string `json:"artefactContent,omitempty"`
	Target          string `json:"target,omitempty"`
	NodeReference   string `json:"nodeReference,omitempty"`
}

func (c Command) Validate() error {
	ve := &contracts.ValidationError{}
	if strings.TrimSpace(c.Command) == "" {
		ve.Fields = append(ve.Fields, contracts.FieldError{Field: "command", Reason: "required"})
	}
	if strings.TrimSpace(c.Artefact) == "" {
		ve.Fields = append(ve.Fields, contracts.FieldError{Field: "artefact", Reason: "required"})
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

// Input converts c into router content and metadata. Commands always carry
// the wormhole flag.
func (c Command) Input() (string, Metadata) {
	content := c.ArtefactContent
	if strings.TrimSpace(content) == "" {
		content = c.Command
	}
	return content, Metadata{
		Wormhole:      true,
		Name:          c.Artefact,
		Command:       c.Command,
		Target:        c.Target,
		NodeReference: c.NodeReference,
		Source:        "command",
	}
}
