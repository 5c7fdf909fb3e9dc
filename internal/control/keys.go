package control

// Key is a keystroke forwarded from the display window.
type Key rune

const (
	KeyEsc     Key = 27
	KeyLand    Key = 'l'
	KeySuspend Key = 'x'
)

// keyMoves maps operator keys to discrete moves.
var keyMoves = map[Key]Direction{
	'w': Forward,
	's': Back,
	'a': Left,
	'd': Right,
	'e': Clockwise,
	'q': CounterClockwise,
	'r': Up,
	'f': Down,
}

// MoveFor returns the move bound to k, if any.
func MoveFor(k Key) (Direction, bool) {
	d, ok := keyMoves[k]
	return d, ok
}
