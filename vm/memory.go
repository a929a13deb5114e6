package vm

// ---------------------------------------------------------------------------
// Host access to linear memory
// ---------------------------------------------------------------------------

// ReadString returns the null-terminated string at addr.
func (m *Machine) ReadString(addr int32) (string, error) {
	if addr < 0 || int(addr) >= len(m.memory) {
		return "", trapf("string address %d out of range", addr)
	}
	for end := int(addr); end < len(m.memory); end++ {
		if m.memory[end] == 0 {
			return string(m.memory[addr:end]), nil
		}
	}
	return "", trapf("string at %d is not terminated", addr)
}

// WriteString stores s followed by a null byte at addr.
func (m *Machine) WriteString(addr int32, s string) error {
	b, err := m.slice(addr, 0, len(s)+1)
	if err != nil {
		return err
	}
	copy(b, s)
	b[len(s)] = 0
	return nil
}

// ByteAt returns the byte at addr.
func (m *Machine) ByteAt(addr int32) (byte, error) {
	b, err := m.slice(addr, 0, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Snapshot returns a copy of linear memory.
func (m *Machine) Snapshot() []byte {
	return append([]byte(nil), m.memory...)
}
