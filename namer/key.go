package namer

// Key is a key qualified by its namespace.
type Key struct {
	Namespace Namespace
	Name      []byte
}

// Raw returns the stored form of the key.
func (k Key) Raw() []byte {
	return k.Namespace.Key(k.Name)
}

func (k Key) String() string {
	return string(k.Raw())
}
