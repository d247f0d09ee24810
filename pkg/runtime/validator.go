package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
)

// ValidateRawBytecode runs the checks that must happen before wazero ever
// parses/compiles the module, because a violation would otherwise surface as
// an opaque compile failure instead of a named static-validation rule.
// wazero rejects a module declaring more than one memory (imported or
// locally defined) at CompileModule time when the multi-memory feature is
// off — which it is by default — so the "exactly one memory" rule is
// unreachable from Validate's post-compile validateMemory if left to run
// only after compilation. This mirrors the original check_wasm step, which
// inspects the raw module before handing it to the engine.
func ValidateRawBytecode(wasmBytes []byte) error {
	count, ok := countDeclaredMemories(wasmBytes)
	if !ok {
		// Malformed or unrecognized shape: let the real compiler produce the
		// error, rather than guessing at one here.
		return nil
	}
	if count != 1 {
		return &ValidationError{
			Rule:    "memory_section",
			Message: fmt.Sprintf("expected exactly one memory, found %d", count),
		}
	}
	return nil
}

// countDeclaredMemories walks a WASM binary's import and memory sections
// far enough to count every declared memory (imported plus locally defined),
// without requiring a full module parse. Returns ok=false if the bytes
// don't look like a well-formed module, in which case the caller should
// defer to the real compiler's error.
func countDeclaredMemories(wasmBytes []byte) (int, bool) {
	if len(wasmBytes) < 8 || string(wasmBytes[0:4]) != "\x00asm" {
		return 0, false
	}

	total := 0
	off := 8
	for off < len(wasmBytes) {
		id := wasmBytes[off]
		off++

		size, next, ok := readULEB128(wasmBytes, off)
		if !ok {
			return 0, false
		}
		off = next
		sectionEnd := off + int(size)
		if sectionEnd < off || sectionEnd > len(wasmBytes) {
			return 0, false
		}

		switch id {
		case 2: // import section
			n, importOff, ok := readULEB128(wasmBytes, off)
			if !ok {
				return 0, false
			}
			for i := uint64(0); i < n; i++ {
				importOff, ok = skipVector(wasmBytes, importOff) // module name
				if !ok {
					return 0, false
				}
				importOff, ok = skipVector(wasmBytes, importOff) // field name
				if !ok {
					return 0, false
				}
				if importOff >= len(wasmBytes) {
					return 0, false
				}
				kind := wasmBytes[importOff]
				importOff++
				switch kind {
				case 0x00: // func: typeidx
					_, importOff, ok = readULEB128(wasmBytes, importOff)
				case 0x01: // table: elemtype + limits
					importOff++
					importOff, ok = skipLimits(wasmBytes, importOff)
				case 0x02: // memory: limits
					total++
					importOff, ok = skipLimits(wasmBytes, importOff)
				case 0x03: // global: valtype + mutability
					importOff += 2
					ok = importOff <= len(wasmBytes)
				default:
					ok = false
				}
				if !ok {
					return 0, false
				}
			}
		case 5: // memory section: a vector of memtype, one per local memory
			n, _, ok := readULEB128(wasmBytes, off)
			if !ok {
				return 0, false
			}
			total += int(n)
		}

		off = sectionEnd
	}
	return total, true
}

// readULEB128 decodes an unsigned LEB128 integer starting at off, returning
// the value and the offset immediately past it.
func readULEB128(b []byte, off int) (uint64, int, bool) {
	var result uint64
	var shift uint
	for {
		if off >= len(b) || shift >= 64 {
			return 0, off, false
		}
		byt := b[off]
		off++
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, off, true
}

// skipVector advances past a length-prefixed byte vector (used for the
// module/field name strings in an import entry).
func skipVector(b []byte, off int) (int, bool) {
	n, next, ok := readULEB128(b, off)
	if !ok {
		return off, false
	}
	end := next + int(n)
	if end < next || end > len(b) {
		return off, false
	}
	return end, true
}

// skipLimits advances past a WASM limits record (flag byte, min, optional
// max), as used by both table and memory import types.
func skipLimits(b []byte, off int) (int, bool) {
	if off >= len(b) {
		return off, false
	}
	flag := b[off]
	off++
	_, off, ok := readULEB128(b, off)
	if !ok {
		return off, false
	}
	if flag&0x01 != 0 {
		_, off, ok = readULEB128(b, off)
		if !ok {
			return off, false
		}
	}
	return off, true
}

// Validate runs the six-step static-validation sequence against an already
// parsed (but not yet instantiated) compiled module, and either accepts it or
// returns a *ValidationError naming the failing rule. It is pure and
// deterministic: the same compiled module always produces the same verdict.
func Validate(compiled wazero.CompiledModule) error {
	if err := validateMemory(compiled); err != nil {
		return err
	}
	if err := validateInterfaceVersion(compiled); err != nil {
		return err
	}
	if err := validateRequiredExports(compiled); err != nil {
		return err
	}
	if err := validateImports(compiled); err != nil {
		return err
	}
	if err := validateCapabilities(compiled); err != nil {
		return err
	}
	return nil
}

func validateMemory(compiled wazero.CompiledModule) error {
	mems := compiled.ExportedMemories()
	if len(mems) != 1 {
		return &ValidationError{
			Rule:    "memory_section",
			Message: fmt.Sprintf("expected exactly one memory, found %d", len(mems)),
		}
	}
	for name, mem := range mems {
		if mem.Min() > MemoryLimitPages {
			return &ValidationError{
				Rule:    "memory_section",
				Message: fmt.Sprintf("memory %q declares minimum %d pages, exceeds limit of %d", name, mem.Min(), MemoryLimitPages),
			}
		}
		if _, bounded := mem.Max(); bounded {
			return &ValidationError{
				Rule:    "memory_section",
				Message: fmt.Sprintf("memory %q declares a maximum; the host must decide, so maximum must be unset", name),
			}
		}
	}
	return nil
}

func validateInterfaceVersion(compiled wazero.CompiledModule) error {
	var found []string
	for name := range compiled.ExportedFunctions() {
		if version, ok := ParseInterfaceVersion(name); ok {
			found = append(found, version)
		}
	}
	if len(found) != 1 {
		return &ValidationError{
			Rule:    "interface_version",
			Message: fmt.Sprintf("expected exactly one %s* export, found %d", InterfaceVersionPrefix, len(found)),
		}
	}
	if !SupportedInterfaceVersions[found[0]] {
		return &ValidationError{
			Rule:    "interface_version",
			Message: fmt.Sprintf("unsupported interface version %q", found[0]),
		}
	}
	return nil
}

func validateRequiredExports(compiled wazero.CompiledModule) error {
	exports := compiled.ExportedFunctions()
	var missing []string
	for _, want := range RequiredExports {
		if _, ok := exports[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{
			Rule:    "required_exports",
			Message: fmt.Sprintf("missing required export(s): %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

func validateImports(compiled wazero.CompiledModule) error {
	for _, fn := range compiled.ImportedFunctions() {
		moduleName, name, isImport := fn.Import()
		if !isImport {
			continue
		}
		key := moduleName + "." + name
		if !AllowedImports[key] {
			allowed := make([]string, 0, len(AllowedImports))
			for k := range AllowedImports {
				allowed = append(allowed, k)
			}
			sort.Strings(allowed)
			return &ValidationError{
				Rule:    "imports",
				Message: fmt.Sprintf("import %q is not in the host allow-list {%s}", key, strings.Join(allowed, ", ")),
			}
		}
	}
	for _, mem := range compiled.ImportedMemories() {
		_, name, isImport := mem.Import()
		if isImport {
			return &ValidationError{
				Rule:    "imports",
				Message: fmt.Sprintf("memory import %q is not permitted", name),
			}
		}
	}
	return nil
}

func validateCapabilities(compiled wazero.CompiledModule) error {
	var missing []string
	for name := range compiled.ExportedFunctions() {
		capability, ok := ParseCapability(name)
		if !ok {
			continue
		}
		if !AdvertisedCapabilities[capability] {
			missing = append(missing, capability)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{
			Rule:    "capabilities",
			Message: fmt.Sprintf("requires unsupported capability(ies): %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
