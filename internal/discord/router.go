package discord

import (
	"cmp"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash command interaction.
type HandlerFunc func(api API, i *discordgo.InteractionCreate)

// CommandRouter dispatches slash command interactions by route. A route is
// "command" or "command/subcommand", e.g. "meeting/start".
type CommandRouter struct {
	mu       sync.RWMutex
	defs     map[string]*discordgo.ApplicationCommand // by top-level name
	handlers map[string]HandlerFunc                   // by route
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		defs:     make(map[string]*discordgo.ApplicationCommand),
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterCommand routes key to handler and records cmd for registration
// with Discord. Subcommand routes usually share their parent's definition;
// it is registered once.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd != nil {
		r.defs[cmd.Name] = cmd
	}
	r.handlers[key] = handler
}

// RegisterHandler routes key to handler without a command definition.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.RegisterCommand(key, nil, handler)
}

// ApplicationCommands returns the top-level command definitions sorted by
// name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.SortedFunc(maps.Values(r.defs), func(a, b *discordgo.ApplicationCommand) int {
		return cmp.Compare(a.Name, b.Name)
	})
}

// Handle dispatches i to its route's handler. Unknown commands get an
// ephemeral reply and other interaction types are ignored. A panicking
// handler is logged instead of taking down the gateway connection.
func (r *CommandRouter) Handle(api API, i *discordgo.InteractionCreate) {
	data, ok := i.Data.(discordgo.ApplicationCommandInteractionData)
	if i.Type != discordgo.InteractionApplicationCommand || !ok {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}
	key := route(data)

	r.mu.RLock()
	handler, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "route", key)
		RespondEphemeral(api, i, "Unknown command.")
		return
	}

	defer func() {
		if v := recover(); v != nil {
			slog.Error("discord: command handler panicked", "route", key, "panic", v, "stack", string(debug.Stack()))
		}
	}()
	handler(api, i)
}

func route(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
