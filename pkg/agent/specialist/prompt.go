package specialist

import (
	"bytes"
	"embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/model"
)

//go:embed prompt/*.md
var promptFS embed.FS

type promptData struct {
	Domain       model.Domain
	Tools        []*model.ToolDescriptor
	MaxToolCalls int
}

func buildSystemPrompt(data promptData) (string, error) {
	tmpl, err := template.New("base.md").ParseFS(promptFS,
		"prompt/base.md",
		"prompt/"+string(data.Domain)+".md",
	)
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse prompt template", goerr.V("domain", data.Domain))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt template", goerr.V("domain", data.Domain))
	}
	return buf.String(), nil
}
