package scan

import "fmt"

func errLen(n int) error { return fmt.Errorf("snapshot length %d exceeds capacity", n) }

func errTorn(seq uint64) error { return fmt.Errorf("frame %d partially visible", seq) }

func errOrder(a, b uint64) error { return fmt.Errorf("out of order: %d then %d", a, b) }
