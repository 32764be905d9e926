// Package chatscript builds the scripted conversations that are queued as
// GENERATE jobs.
package chatscript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"lab-console/internal/validation"
	"lab-console/pkg/api"

	"github.com/google/uuid"
)

const DefaultSystemMessage = "You are a helpful assistant."

type Script struct {
	Chats []api.ChatMessage `json:"chats"`
}

// New returns the starter script: a system message and one human/assistant
// exchange.
func New() *Script {
	return &Script{Chats: []api.ChatMessage{
		{Role: api.RoleSystem, Content: DefaultSystemMessage},
		{Role: api.RoleHuman, Content: "Hello"},
		{Role: api.RoleAssistant, Content: "Hi there!"},
	}}
}

func FromChats(chats []api.ChatMessage) *Script {
	if len(chats) == 0 {
		return New()
	}
	return &Script{Chats: slices.Clone(chats)}
}

// Load reads a script from a JSON file holding either {"chats": [...]} or a
// bare list of messages.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading chat script %s: %w", path, err)
	}

	var script Script
	if err := json.Unmarshal(data, &script); err == nil && len(script.Chats) > 0 {
		return &script, nil
	}

	var chats []api.ChatMessage
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, validation.Errorf("chats", "%s is not a chat script: %v", path, err)
	}
	return FromChats(chats), nil
}

func (s *Script) systemIndex() int {
	return slices.IndexFunc(s.Chats, func(c api.ChatMessage) bool { return c.Role == api.RoleSystem })
}

func (s *Script) SystemMessage() string {
	if i := s.systemIndex(); i >= 0 {
		return s.Chats[i].Content
	}
	return ""
}

// SetSystemMessage replaces the system message, adding one at the front if
// the script has none.
func (s *Script) SetSystemMessage(content string) {
	if i := s.systemIndex(); i >= 0 {
		s.Chats[i].Content = content
		return
	}
	s.Chats = slices.Insert(s.Chats, 0, api.ChatMessage{Role: api.RoleSystem, Content: content})
}

func nextRole(role api.ChatRole) api.ChatRole {
	if role == api.RoleHuman {
		return api.RoleAssistant
	}
	return api.RoleHuman
}

// NextRole is the role suggested for the next appended line.
func (s *Script) NextRole() api.ChatRole {
	for i := len(s.Chats) - 1; i >= 0; i-- {
		if s.Chats[i].Role != api.RoleSystem {
			return nextRole(s.Chats[i].Role)
		}
	}
	return api.RoleHuman
}

// Append adds a line and returns the role suggested for the line after it.
func (s *Script) Append(role api.ChatRole, content string) (api.ChatRole, error) {
	if role != api.RoleHuman && role != api.RoleAssistant {
		return role, validation.Errorf("role", "cannot append a %q line", role)
	}
	s.Chats = append(s.Chats, api.ChatMessage{Role: role, Content: content})
	return nextRole(role), nil
}

func (s *Script) Edit(index int, role api.ChatRole, content string) error {
	if index < 0 || index >= len(s.Chats) {
		return validation.Errorf("index", "no line %d", index)
	}
	if s.Chats[index].Role == api.RoleSystem {
		if role != api.RoleSystem {
			return validation.Errorf("role", "the system message keeps its role")
		}
	} else if role != api.RoleHuman && role != api.RoleAssistant {
		return validation.Errorf("role", "unsupported role %q", role)
	}
	s.Chats[index] = api.ChatMessage{Role: role, Content: content}
	return nil
}

func (s *Script) Remove(index int) error {
	if index < 0 || index >= len(s.Chats) {
		return validation.Errorf("index", "no line %d", index)
	}
	if s.Chats[index].Role == api.RoleSystem {
		return validation.Errorf("index", "the system message cannot be removed")
	}
	s.Chats = slices.Delete(s.Chats, index, index+1)
	return nil
}

func (s *Script) Validate() error {
	systems := 0
	turns := 0
	for i, chat := range s.Chats {
		switch chat.Role {
		case api.RoleSystem:
			systems++
		case api.RoleHuman, api.RoleAssistant:
			turns++
		default:
			return validation.Errorf("role", "line %d has unsupported role %q", i, chat.Role)
		}
		if strings.TrimSpace(chat.Content) == "" {
			return validation.Errorf("content", "line %d is empty", i)
		}
	}
	if systems > 1 {
		return validation.Errorf("role", "script has %d system messages", systems)
	}
	if turns == 0 {
		return validation.Errorf("chats", "script has no conversation lines")
	}
	return nil
}

type JobCreator interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (uuid.UUID, error)
}

// Queue submits the script as a GENERATE job.
func Queue(ctx context.Context, creator JobCreator, experimentId uuid.UUID, script *Script) (uuid.UUID, error) {
	if err := script.Validate(); err != nil {
		return uuid.Nil, err
	}

	id, err := creator.CreateJob(ctx, api.CreateJobRequest{
		ExperimentId: experimentId,
		Type:         api.JobGenerate,
		Status:       api.JobQueued,
		Data:         map[string]any{"chats": slices.Clone(script.Chats)},
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("error queueing chat script: %w", err)
	}
	return id, nil
}
