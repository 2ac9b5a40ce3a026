package driver

import (
	"fmt"
	"regexp"
	"strings"
	"unsafe"
)

// paramDecl is one declared kernel parameter as seen by the host compiler.
type paramDecl struct {
	Name     string
	TypeName string
	Pointer  bool
	Size     uintptr
}

// kernelDecl is one entry point found in a program.
type kernelDecl struct {
	Name   string
	Params []paramDecl
}

// hostBinary is the host compiler's output.
type hostBinary struct {
	kernels []kernelDecl
	byName  map[string]int
	argInfo bool
}

var (
	kernelHeader = regexp.MustCompile(`(?s)(?:\b__kernel|\bkernel)\s+(?:__attribute__\s*\(\(.*?\)\)\s*)?void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)\s*\{`)
	kernelMarker = regexp.MustCompile(`(?:\b__kernel|\bkernel)\s+[A-Za-z_]`)
	vectorType   = regexp.MustCompile(`^(char|uchar|short|ushort|int|uint|long|ulong|float|double|half)(2|3|4|8|16)$`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

var scalarSizes = map[string]uintptr{
	"bool":           1,
	"char":           1,
	"uchar":          1,
	"unsigned char":  1,
	"short":          2,
	"ushort":         2,
	"unsigned short": 2,
	"half":           2,
	"int":            4,
	"uint":           4,
	"unsigned int":   4,
	"unsigned":       4,
	"float":          4,
	"long":           8,
	"ulong":          8,
	"unsigned long":  8,
	"double":         8,
	"size_t":         8,
}

var paramQualifiers = map[string]bool{
	"__global": true, "global": true,
	"__local": true, "local": true,
	"__constant": true, "constant": true,
	"__private": true, "private": true,
	"const": true, "restrict": true, "__restrict": true, "volatile": true,
	"__read_only": true, "read_only": true,
	"__write_only": true, "write_only": true,
	"__read_write": true, "read_write": true,
}

// parseBuildOptions checks the option string and reports whether kernel argument
// metadata was requested.
func parseBuildOptions(options string) (argInfo bool, ok bool) {
	fields := strings.Fields(options)
	for i := 0; i < len(fields); i++ {
		opt := fields[i]
		switch {
		case opt == "-cl-kernel-arg-info":
			argInfo = true
		case strings.HasPrefix(opt, "-cl-"):
		case opt == "-w", opt == "-Werror":
		case opt == "-O", len(opt) == 3 && strings.HasPrefix(opt, "-O") && strings.ContainsRune("0123", rune(opt[2])):
		case opt == "-D", opt == "-I":
			if i+1 == len(fields) {
				return false, false
			}
			i++
		case strings.HasPrefix(opt, "-D"), strings.HasPrefix(opt, "-I"):
		default:
			return false, false
		}
	}
	return argInfo, true
}

// compileHost parses kernel signatures out of the sources. Kernel bodies are not
// translated; execution is provided by registered HostKernelFuncs.
func compileHost(sources [][]byte, options string) (*hostBinary, string, Status) {
	argInfo, ok := parseBuildOptions(options)
	if !ok {
		return nil, "", StatusInvalidBuildOptions
	}

	var text strings.Builder
	for _, src := range sources {
		text.Write(src)
		text.WriteByte('\n')
	}
	code := blockComment.ReplaceAllString(text.String(), " ")
	code = lineComment.ReplaceAllString(code, "")

	var log []string
	if depth := braceDepth(code); depth != 0 {
		log = append(log, fmt.Sprintf("error: unbalanced braces (depth %d at end of input)", depth))
	}

	bin := &hostBinary{byName: make(map[string]int), argInfo: argInfo}
	headers := kernelHeader.FindAllStringSubmatch(code, -1)
	if markers := len(kernelMarker.FindAllStringIndex(code, -1)); markers != len(headers) {
		log = append(log, fmt.Sprintf("error: %d kernel declarations could not be parsed", markers-len(headers)))
	}
	for _, h := range headers {
		name := h[1]
		if _, dup := bin.byName[name]; dup {
			log = append(log, fmt.Sprintf("error: redefinition of kernel %q", name))
			continue
		}
		params, errs := parseParams(name, h[2])
		log = append(log, errs...)
		bin.byName[name] = len(bin.kernels)
		bin.kernels = append(bin.kernels, kernelDecl{Name: name, Params: params})
	}

	if len(log) > 0 {
		return nil, strings.Join(log, "\n"), StatusBuildProgramFailure
	}
	return bin, "", StatusSuccess
}

func braceDepth(code string) int {
	depth := 0
	for _, r := range code {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return depth
			}
		}
	}
	return depth
}

func parseParams(kernel, list string) ([]paramDecl, []string) {
	list = strings.TrimSpace(list)
	if list == "" || list == "void" {
		return nil, nil
	}
	var (
		params []paramDecl
		errs   []string
	)
	for i, raw := range strings.Split(list, ",") {
		p, err := parseParam(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("error: kernel %q parameter %d: %v", kernel, i, err))
			continue
		}
		params = append(params, p)
	}
	return params, errs
}

func parseParam(raw string) (paramDecl, error) {
	tokens := strings.Fields(strings.ReplaceAll(raw, "*", " * "))
	var base []string
	stars := 0
	for _, tok := range tokens {
		switch {
		case paramQualifiers[tok]:
		case tok == "*":
			stars++
		default:
			base = append(base, tok)
		}
	}
	if len(base) < 2 {
		return paramDecl{}, fmt.Errorf("malformed parameter %q", strings.TrimSpace(raw))
	}
	name := base[len(base)-1]
	typ := strings.Join(base[:len(base)-1], " ")

	size, known := scalarSizes[typ]
	if !known {
		if m := vectorType.FindStringSubmatch(typ); m != nil {
			// 3-component vectors occupy the storage of 4.
			var width uintptr
			switch m[2] {
			case "2":
				width = 2
			case "3", "4":
				width = 4
			case "8":
				width = 8
			case "16":
				width = 16
			}
			size, known = scalarSizes[m[1]]*width, true
		}
	}
	if typ == "void" && stars > 0 {
		known = true
	}
	if !known {
		return paramDecl{}, fmt.Errorf("unknown type name %q", typ)
	}

	p := paramDecl{Name: name, TypeName: typ + strings.Repeat("*", stars), Size: size}
	if stars > 0 {
		p.Pointer = true
		p.Size = unsafe.Sizeof(uintptr(0))
	}
	return p, nil
}

// kernelNames is the semicolon separated catalog of entry points.
func (b *hostBinary) kernelNames() string {
	names := make([]string, len(b.kernels))
	for i, k := range b.kernels {
		names[i] = k.Name
	}
	return strings.Join(names, ";")
}
