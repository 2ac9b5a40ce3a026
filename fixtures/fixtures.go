package fixtures

import (
	_ "embed"
)

// DoubleKernels declares lol (doubles each element), lol2 and lol3.
//
//go:embed kernels/double.cl
var DoubleKernels []byte

//go:embed config/config.yaml.template
var ConfigTemplate []byte
