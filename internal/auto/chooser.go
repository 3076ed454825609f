package auto

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robot-control/robotd/internal/command"
)

// Chooser holds the operator's routine selection. It is safe for
// concurrent use; the API selects while the robot loop builds.
type Chooser struct {
	mu       sync.RWMutex
	cat      *Catalogue
	selected string
	logger   *slog.Logger
}

func NewChooser(cat *Catalogue, logger *slog.Logger) *Chooser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chooser{cat: cat, logger: logger}
}

// Names lists the selectable routines.
func (c *Chooser) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cat.Names()
}

// Select chooses a routine by name.
func (c *Chooser) Select(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cat.Has(name) {
		return fmt.Errorf("%w: %s", ErrUnknownRoutine, name)
	}
	c.selected = name
	c.logger.Info("Autonomous routine selected", "routine", name)
	return nil
}

// Selected returns the chosen routine, or the catalogue default when
// nothing has been chosen.
func (c *Chooser) Selected() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selectedLocked()
}

func (c *Chooser) selectedLocked() string {
	if c.selected != "" {
		return c.selected
	}
	return c.cat.Default
}

// SetCatalogue swaps in a reloaded catalogue. A selection that no longer
// exists falls back to the new default.
func (c *Chooser) SetCatalogue(cat *Catalogue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cat = cat
	if c.selected != "" && !cat.Has(c.selected) {
		c.logger.Warn("Selected routine removed from catalogue", "routine", c.selected, "fallback", cat.Default)
		c.selected = ""
	}
}

// Command builds the selected routine. If it fails to build, the default
// routine is built instead, and DoNothing after that.
func (c *Chooser) Command(m Mechanisms) command.Command {
	c.mu.RLock()
	cat, name := c.cat, c.selectedLocked()
	c.mu.RUnlock()

	for _, candidate := range []string{name, cat.Default} {
		cmd, err := cat.Build(candidate, m)
		if err == nil {
			return cmd
		}
		c.logger.Error("Failed to build routine", "routine", candidate, "error", err)
	}
	cmd, _ := cat.Build(DoNothing, m)
	return cmd
}
