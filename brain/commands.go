package brain

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownCommand is returned for a host sub-command with no handler
var ErrUnknownCommand = errors.New("brain: unknown host command")

// CommandHandler handles a host command; args are the bytes after the
// sub-command
type CommandHandler func(args []byte) error

// Command is one host sub-command
type Command struct {
	ID      byte
	Name    string
	Handler CommandHandler
}

// CommandRegistry maps host sub-command bytes to handlers
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[byte]*Command
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[byte]*Command)}
}

// Register adds or replaces the handler for a sub-command
func (r *CommandRegistry) Register(id byte, name string, handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[id] = &Command{ID: id, Name: name, Handler: handler}
}

// GetCommand retrieves a command by sub-command byte
func (r *CommandRegistry) GetCommand(id byte) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Names lists registered command names ordered by sub-command byte
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.commands))
	for id := range r.commands {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, r.commands[byte(id)].Name)
	}
	return names
}

// Dispatch calls the handler registered for id
func (r *CommandRegistry) Dispatch(id byte, args []byte) error {
	cmd, ok := r.GetCommand(id)
	if !ok || cmd.Handler == nil {
		return fmt.Errorf("%w: 0x%02x", ErrUnknownCommand, id)
	}
	return cmd.Handler(args)
}
