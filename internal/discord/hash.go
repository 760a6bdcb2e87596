package discord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
)

type optionShape struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Type        discordgo.ApplicationCommandOptionType `json:"type"`
	Required    bool                                   `json:"required"`
	MinValue    *float64                               `json:"min_value,omitempty"`
	MaxValue    float64                                `json:"max_value,omitempty"`
	Options     []optionShape                          `json:"options,omitempty"`
}

type commandShape struct {
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	Type        discordgo.ApplicationCommandType `json:"type"`
	Options     []optionShape                    `json:"options,omitempty"`
}

// hashCommand hashes the user-visible shape of a command, ignoring ids and
// versions assigned by Discord.
func hashCommand(cmd *discordgo.ApplicationCommand) string {
	typ := cmd.Type
	if typ == 0 {
		typ = discordgo.ChatApplicationCommand
	}
	data, _ := json.Marshal(commandShape{
		Name:        cmd.Name,
		Description: cmd.Description,
		Type:        typ,
		Options:     shapeOptions(cmd.Options),
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func shapeOptions(opts []*discordgo.ApplicationCommandOption) []optionShape {
	if len(opts) == 0 {
		return nil
	}
	out := make([]optionShape, len(opts))
	for i, o := range opts {
		out[i] = optionShape{
			Name:        o.Name,
			Description: o.Description,
			Type:        o.Type,
			Required:    o.Required,
			MinValue:    o.MinValue,
			MaxValue:    o.MaxValue,
			Options:     shapeOptions(o.Options),
		}
	}
	slices.SortFunc(out, func(a, b optionShape) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// hashCommands maps command names to their hashes.
func hashCommands(cmds []*discordgo.ApplicationCommand) map[string]string {
	out := make(map[string]string, len(cmds))
	for _, c := range cmds {
		out[c.Name] = hashCommand(c)
	}
	return out
}

// commandCache remembers what was last registered per scope so restarts do
// not re-upload unchanged commands.
type commandCache struct {
	dir string
}

func (c commandCache) path(scope string) string {
	if scope == "" {
		scope = "global"
	}
	return filepath.Join(c.dir, "commands", scope+".json")
}

func (c commandCache) load(scope string) map[string]string {
	data := make(map[string]string)
	if c.dir == "" {
		return data
	}
	raw, err := os.ReadFile(c.path(scope))
	if err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	return data
}

func (c commandCache) save(scope string, hashes map[string]string) error {
	if c.dir == "" {
		return nil
	}
	path := c.path(scope)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// needsSync reports whether the registered commands differ from wanted.
func needsSync(cached, wanted map[string]string, registered []*discordgo.ApplicationCommand) bool {
	if len(registered) != len(wanted) {
		return true
	}
	for _, r := range registered {
		if _, ok := wanted[r.Name]; !ok {
			return true
		}
	}
	if len(cached) != len(wanted) {
		return true
	}
	for name, h := range wanted {
		if cached[name] != h {
			return true
		}
	}
	return false
}
