package discord

import (
	"cmp"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc is the signature for slash command handlers.
type HandlerFunc func(s Responder, i *discordgo.InteractionCreate)

type route struct {
	def     *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches slash command interactions by route key. A key is
// the command name, optionally followed by "/" and the subcommand name.
type CommandRouter struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{routes: make(map[string]route)}
}

// RegisterCommand routes key to handler and records def for registration
// with Discord. Several keys may share one definition.
func (r *CommandRouter) RegisterCommand(key string, def *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	r.routes[key] = route{def: def, handler: handler}
	r.mu.Unlock()
}

// RegisterHandler routes key to handler without a definition, for
// subcommands of an already registered command.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.RegisterCommand(key, nil, handler)
}

// ApplicationCommands returns each distinct top-level definition once,
// ordered by name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []*discordgo.ApplicationCommand
	for _, rt := range r.routes {
		if rt.def == nil || slices.ContainsFunc(defs, func(d *discordgo.ApplicationCommand) bool { return d.Name == rt.def.Name }) {
			continue
		}
		defs = append(defs, rt.def)
	}
	slices.SortFunc(defs, func(a, b *discordgo.ApplicationCommand) int { return cmp.Compare(a.Name, b.Name) })
	return defs
}

// Handle dispatches a slash command interaction. Other interaction types are
// ignored. A panicking handler is logged and answered with an error.
func (r *CommandRouter) Handle(s Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: unhandled interaction type", "type", i.Type)
		return
	}
	key := routeKey(i.ApplicationCommandData())

	r.mu.RLock()
	rt, ok := r.routes[key]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}

	defer func() {
		if v := recover(); v != nil {
			slog.Error("discord: command handler panicked", "key", key, "panic", v, "stack", string(debug.Stack()))
			RespondEphemeral(s, i, "Something went wrong handling that command.")
		}
	}()
	rt.handler(s, i)
}

func routeKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
