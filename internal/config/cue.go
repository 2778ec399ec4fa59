package config

import (
	_ "embed"
	"fmt"
	"strconv"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/diamondctl/internal/ir"
)

//go:embed schema.cue
var schemaSource []byte

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// schemaMu guards schemaCtx, which is not safe for concurrent use.
	schemaMu sync.Mutex
)

// schema returns the #DeployConfig definition. Callers hold schemaMu.
func schema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compiling config schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#DeployConfig"))
	})
	return schemaCtx, schemaDef, schemaErr
}

// checkSchema validates a YAML-derived document against the schema.
func checkSchema(doc map[string]any) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def, err := schema()
	if err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return &LoadError{Code: ErrCodeSchema, Message: fmt.Sprintf("encoding config: %v", err)}
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return schemaError(err)
	}
	return nil
}

// ParseCUE compiles a CUE deploy config. The file's top-level fields are the
// config itself, unified with #DeployConfig.
func ParseCUE(filename string, data []byte) (ir.DeployConfig, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx, def, err := schema()
	if err != nil {
		return ir.DeployConfig{}, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		le := schemaError(err)
		le.Code = ErrCodeParse
		return ir.DeployConfig{}, le
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return ir.DeployConfig{}, schemaError(err)
	}
	return Compile(unified)
}

// schemaError converts a CUE error into a LoadError carrying the position of
// the first reported problem.
func schemaError(err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}
	le := &LoadError{Code: ErrCodeSchema, Message: errs[0].Error()}
	if positions := cueerrors.Positions(errs[0]); len(positions) > 0 {
		le.Pos = positions[0]
	}
	if len(errs) > 1 {
		le.Message = fmt.Sprintf("%s (and %d more)", le.Message, len(errs)-1)
	}
	return le
}

// CompileError is a config compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile converts a schema-checked CUE value into a DeployConfig.
func Compile(v cue.Value) (ir.DeployConfig, error) {
	if err := v.Err(); err != nil {
		return ir.DeployConfig{}, schemaError(err)
	}

	cfg := ir.DeployConfig{Facets: map[string]ir.FacetConfig{}}

	version, err := v.LookupPath(cue.ParsePath("protocolVersion")).Int64()
	if err != nil {
		return ir.DeployConfig{}, &CompileError{Field: "protocolVersion", Message: err.Error(), Pos: v.Pos()}
	}
	cfg.ProtocolVersion = int(version)

	if initVal := v.LookupPath(cue.ParsePath("protocolInitFacet")); initVal.Exists() && initVal.IsConcrete() {
		cfg.ProtocolInitFacet, err = initVal.String()
		if err != nil {
			return ir.DeployConfig{}, &CompileError{Field: "protocolInitFacet", Message: err.Error(), Pos: initVal.Pos()}
		}
	}

	facetsVal := v.LookupPath(cue.ParsePath("facets"))
	if !facetsVal.Exists() {
		return cfg, nil
	}
	iter, err := facetsVal.Fields()
	if err != nil {
		return ir.DeployConfig{}, &CompileError{Field: "facets", Message: err.Error(), Pos: facetsVal.Pos()}
	}
	for iter.Next() {
		fc, err := compileFacet(iter.Value())
		if err != nil {
			return ir.DeployConfig{}, err
		}
		cfg.Facets[iter.Selector().Unquoted()] = fc
	}
	return cfg, nil
}

func compileFacet(v cue.Value) (ir.FacetConfig, error) {
	field := v.Path().String()

	priority, err := v.LookupPath(cue.ParsePath("priority")).Int64()
	if err != nil {
		return ir.FacetConfig{}, &CompileError{Field: field + ".priority", Message: err.Error(), Pos: v.Pos()}
	}
	fc := ir.FacetConfig{Priority: int(priority), Versions: map[int]ir.VersionSpec{}}

	versionsVal := v.LookupPath(cue.ParsePath("versions"))
	iter, err := versionsVal.Fields()
	if err != nil {
		return ir.FacetConfig{}, &CompileError{Field: field + ".versions", Message: err.Error(), Pos: versionsVal.Pos()}
	}
	for iter.Next() {
		label := iter.Selector().Unquoted()
		version, err := strconv.Atoi(label)
		if err != nil {
			return ir.FacetConfig{}, &CompileError{
				Field:   field + ".versions",
				Message: fmt.Sprintf("version label %q is not an integer", label),
				Pos:     iter.Value().Pos(),
			}
		}
		spec, err := compileVersion(iter.Value())
		if err != nil {
			return ir.FacetConfig{}, err
		}
		fc.Versions[version] = spec
	}
	return fc, nil
}

func compileVersion(v cue.Value) (ir.VersionSpec, error) {
	var spec ir.VersionSpec
	var err error

	if spec.DeployInit, err = optionalString(v, "deployInit"); err != nil {
		return spec, err
	}
	if spec.UpgradeInit, err = optionalString(v, "upgradeInit"); err != nil {
		return spec, err
	}
	if spec.Callbacks, err = optionalStrings(v, "callbacks"); err != nil {
		return spec, err
	}

	include, err := optionalStrings(v, "deployInclude")
	if err != nil {
		return spec, err
	}
	if spec.DeployInclude, err = parseSelectors(v, "deployInclude", include); err != nil {
		return spec, err
	}
	exclude, err := optionalStrings(v, "deployExclude")
	if err != nil {
		return spec, err
	}
	if spec.DeployExclude, err = parseSelectors(v, "deployExclude", exclude); err != nil {
		return spec, err
	}
	return spec, nil
}

func optionalString(v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() || !f.IsConcrete() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: v.Path().String() + "." + name, Message: err.Error(), Pos: f.Pos()}
	}
	return s, nil
}

func optionalStrings(v cue.Value, name string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() || !f.IsConcrete() {
		return nil, nil
	}
	list, err := f.List()
	if err != nil {
		return nil, &CompileError{Field: v.Path().String() + "." + name, Message: err.Error(), Pos: f.Pos()}
	}
	var out []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, &CompileError{Field: v.Path().String() + "." + name, Message: err.Error(), Pos: list.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

func parseSelectors(v cue.Value, name string, raw []string) ([]ir.Selector, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]ir.Selector, len(raw))
	for i, s := range raw {
		sel, err := ir.ParseSelector(s)
		if err != nil {
			return nil, &CompileError{Field: v.Path().String() + "." + name, Message: err.Error(), Pos: v.Pos()}
		}
		out[i] = sel
	}
	return out, nil
}
