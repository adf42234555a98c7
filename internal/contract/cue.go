package contract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"
	ErrCodeInvalid     = "E007"
)

// CompileError reports a problem in one contract definition.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadError reports a failure while loading a contracts directory.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadCUE loads every contract declared under the top-level `contract` struct
// of the CUE package in dir. Contracts are returned sorted by label.
//
//	contract: dashpay: {
//		id:    "..."
//		owner: "..."
//		documents: profile: { properties: {...}, indices: [...] }
//	}
func LoadCUE(dir string) ([]*DataContract, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("contracts directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing contracts directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return compileAll(v)
}

// LoadCUEString is LoadCUE for an inline CUE source.
func LoadCUEString(src string) ([]*DataContract, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return compileAll(v)
}

func compileAll(v cue.Value) ([]*DataContract, error) {
	root := v.LookupPath(cue.ParsePath("contract"))
	if !root.Exists() {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: "no contract found"}
	}
	iter, err := root.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating contracts: %v", err)}
	}
	type labeled struct {
		label string
		c     *DataContract
	}
	var out []labeled
	for iter.Next() {
		c, err := CompileContract(iter.Value())
		if err != nil {
			return nil, convertCompileError(err, "contract."+iter.Label())
		}
		out = append(out, labeled{iter.Label(), c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].label < out[j].label })
	contracts := make([]*DataContract, len(out))
	for i, l := range out {
		contracts[i] = l.c
	}
	return contracts, nil
}

// CompileContract builds a contract from the CUE value of one definition.
func CompileContract(v cue.Value) (*DataContract, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	for _, field := range []string{"id", "owner"} {
		if !v.LookupPath(cue.ParsePath(field)).Exists() {
			return nil, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
		}
	}
	var w contractWire
	if err := v.Decode(&w); err != nil {
		return nil, formatCUEError(err)
	}
	c, err := fromWire(w)
	if err != nil {
		return nil, &CompileError{Field: "contract", Message: err.Error(), Pos: v.Pos()}
	}
	return c, nil
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeInvalid,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("%s: %v", context, err)}
}

func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
