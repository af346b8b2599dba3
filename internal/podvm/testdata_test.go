package podvm

// Hand-assembled test modules. Each exports one page of memory as "memory"
// and a no-argument "execute" function.
var (
	// wasmNoop returns immediately without output.
	wasmNoop = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type ()->()
		0x03, 0x02, 0x01, 0x00, // func 0: type 0
		0x05, 0x03, 0x01, 0x00, 0x01, // memory min 1
		0x07, 0x14, 0x02,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x07, 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x00,
		0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // body: end
	}

	// wasmTrap executes unreachable.
	wasmTrap = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x14, 0x02,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x07, 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x00,
		0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b, // body: unreachable, end
	}

	// wasmOutput calls env.write_output(0, 1) over a data byte 0x07.
	wasmOutput = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x09, 0x02, 0x60, 0x02, 0x7f, 0x7f, 0x00, 0x60, 0x00, 0x00, // (i32,i32)->(), ()->()
		0x02, 0x14, 0x01,
		0x03, 'e', 'n', 'v',
		0x0c, 'w', 'r', 'i', 't', 'e', '_', 'o', 'u', 't', 'p', 'u', 't', 0x00, 0x00,
		0x03, 0x02, 0x01, 0x01, // func 1: type 1
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x14, 0x02,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x07, 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x01,
		0x0a, 0x0a, 0x01, 0x08, 0x00, 0x41, 0x00, 0x41, 0x01, 0x10, 0x00, 0x0b,
		0x0b, 0x07, 0x01, 0x00, 0x41, 0x00, 0x0b, 0x01, 0x07, // data: [0] = 0x07
	}
)
