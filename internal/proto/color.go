package proto

// Color is a display color a player can claim from the server's pool.
// Colors travel on the wire by name.
type Color string

const (
	ColorWhite   Color = "white"
	ColorBlue    Color = "blue"
	ColorRed     Color = "red"
	ColorGreen   Color = "green"
	ColorYellow  Color = "yellow"
	ColorCyan    Color = "cyan"
	ColorMagenta Color = "magenta"
	ColorOrange  Color = "orange"
	ColorPink    Color = "pink"
)

// DefaultPalette returns a fresh copy of the nine stock colors a server
// starts with. Callers may mutate the returned slice freely.
func DefaultPalette() []Color {
	return []Color{
		ColorWhite, ColorBlue, ColorRed, ColorGreen, ColorYellow,
		ColorCyan, ColorMagenta, ColorOrange, ColorPink,
	}
}
