package payment

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var messagesYAML []byte

type messageTable struct {
	Default  string            `yaml:"default"`
	Messages map[string]string `yaml:"messages"`
}

var (
	loadMessages sync.Once
	messages     messageTable
)

// Message translates a provider status detail or response code into a
// buyer-facing reason. Unknown codes map to the table default.
func Message(code string) string {
	loadMessages.Do(func() {
		if err := yaml.Unmarshal(messagesYAML, &messages); err != nil {
			panic("payment: invalid messages.yaml: " + err.Error())
		}
	})
	if msg, ok := messages.Messages[strings.TrimSpace(code)]; ok {
		return msg
	}
	return messages.Default
}
