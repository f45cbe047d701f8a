package logic

// Toggle flips a cell on every press-down edge.
type Toggle struct {
	cell *Cell
}

// NewToggle creates a toggle writing to cell.
func NewToggle(cell *Cell) *Toggle {
	return &Toggle{cell: cell}
}

// Consume handles one debounced edge and reports whether it toggled.
// Release edges are ignored.
func (t *Toggle) Consume(ev PressEvent) bool {
	if !ev.Pressed {
		return false
	}
	t.cell.Write(!t.cell.Read())
	return true
}

// Listener applies remote commands to a cell as if written locally.
type Listener struct {
	path string
	cell *Cell
}

// NewListener creates a listener for the given telemetry path.
func NewListener(path string, cell *Cell) *Listener {
	return &Listener{path: path, cell: cell}
}

// Path returns the telemetry path the listener answers to.
func (l *Listener) Path() string {
	return l.path
}

// Apply writes the command's value. Commands for other paths are ignored.
// Re-asserting the current value still propagates.
func (l *Listener) Apply(cmd RemoteCommand) bool {
	if cmd.Path != l.path {
		return false
	}
	l.cell.Write(cmd.Value)
	return true
}
