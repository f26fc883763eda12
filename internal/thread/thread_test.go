package thread

import (
	"testing"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/store"
)

func TestIsFirstExchange(t *testing.T) {
	sys := &store.Message{ID: 1, Role: store.RoleSystem}
	user := &store.Message{ID: 2, Role: store.RoleUser}
	assistant := &store.Message{ID: 3, Role: store.RoleAssistant}

	tests := []struct {
		name     string
		messages []*store.Message
		justID   int64
		want     bool
	}{
		{"first user message alone", []*store.Message{user}, 2, true},
		{"with system prompt already present", []*store.Message{sys, user}, 2, true},
		{"second exchange", []*store.Message{sys, user, assistant, {ID: 4, Role: store.RoleUser}}, 4, false},
		{"empty", nil, 1, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := IsFirstExchange(tc.messages, tc.justID)
			if got != tc.want {
				t.Errorf("IsFirstExchange() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAddMessage_RejectsRoleDisagreement(t *testing.T) {
	s := &Service{}
	_, err := s.AddMessage(nil, 1, store.RoleUser, nil, store.MessageContent{Role: store.RoleAssistant, Content: "hi"})
	if !coreerr.Is(err, coreerr.Internal) {
		t.Fatalf("AddMessage with mismatched roles: got %v, want Internal", err)
	}
}
