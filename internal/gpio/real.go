//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CheckChip reports whether the named chip is an accessible GPIO character device.
func CheckChip(chip string) error {
	return gpiocdev.IsChip(chip)
}

// hwLines owns the chip and the line request.
type hwLines struct {
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
	pull  Pull
}

func (s *Source) open() (lineCloser, error) {
	chip, err := gpiocdev.NewChip(s.cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	offsets := make([]int, len(s.cfg.Pins))
	for i, p := range s.cfg.Pins {
		offsets[i] = int(p)
	}

	// Edges are reported in active terms, so with a pull-up and a button to
	// ground the press is still a rising edge.
	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			s.handleEdge(evt.Offset, evt.Type == gpiocdev.LineEventRisingEdge)
		}),
	}
	switch s.cfg.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp, gpiocdev.AsActiveLow)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case PullNone:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}

	lines, err := chip.RequestLines(offsets, opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request pins %v: %w", offsets, err)
	}
	return &hwLines{chip: chip, lines: lines, pull: s.cfg.Pull}, nil
}

// Close releases the lines and the chip.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing so that attached hardware sees a clean state on reboot.
func (h *hwLines) Close() error {
	var errs []error

	if h.lines != nil {
		if err := h.lines.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure lines: %w", err))
		}
		if err := h.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lines: %w", err))
		}
	}
	if h.chip != nil {
		if err := h.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
