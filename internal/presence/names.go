package presence

import "fmt"

// DefaultPalette is the set of cursor colours assigned round-robin.
var DefaultPalette = []string{
	"#FF6B6B", "#4ECDC4", "#FFD93D", "#6C5CE7",
	"#00B894", "#FD79A8", "#E17055", "#0984E3",
}

var adjectives = []string{"Swift", "Quiet", "Bright", "Curious", "Gentle", "Bold", "Lucky", "Sly"}

var animals = []string{"Otter", "Falcon", "Panda", "Fox", "Heron", "Lynx", "Koala", "Moth"}

// NameGenerator produces the nickname of the n-th participant to join.
type NameGenerator interface {
	Name(n uint64) string
}

// SequentialNames combines an adjective and an animal from the join sequence, with a numeric
// suffix once the combinations wrap around.
type SequentialNames struct{}

// Name implements NameGenerator.
func (SequentialNames) Name(n uint64) string {
	a := adjectives[n%uint64(len(adjectives))]
	b := animals[(n/uint64(len(adjectives)))%uint64(len(animals))]
	round := n / uint64(len(adjectives)*len(animals))
	if round == 0 {
		return a + " " + b
	}
	return fmt.Sprintf("%s %s %d", a, b, round+1)
}
