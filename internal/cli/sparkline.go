package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// sparkline is a one-line scrolling chart of the last width samples, scaled
// to the largest visible sample.
type sparkline struct {
	data  []int
	width int
	style lipgloss.Style
}

func newSparkline(width int, style lipgloss.Style) *sparkline {
	return &sparkline{width: width, style: style, data: make([]int, 0, width)}
}

func (s *sparkline) add(v int) {
	s.data = append(s.data, v)
	if len(s.data) > s.width {
		s.data = s.data[len(s.data)-s.width:]
	}
}

func (s *sparkline) view() string {
	return s.style.Render(s.graph())
}

func (s *sparkline) graph() string {
	max := 0
	for _, v := range s.data {
		if v > max {
			max = v
		}
	}

	var graph strings.Builder
	for _, v := range s.data {
		idx := 0
		if max > 0 && v > 0 {
			idx = 1 + v*(len(levels)-2)/max
		}
		graph.WriteRune(levels[idx])
	}
	if pad := s.width - len(s.data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}
	return graph.String()
}
