package scene

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaCUE string

// compiledSchema builds the #SceneFile definition once. Compilation of
// the embedded source cannot fail in a released binary, but the error
// is carried rather than panicking so a corrupt build surfaces as a
// validation error instead of a crash.
var compiledSchema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile scene schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#SceneFile"))
	if !def.Exists() {
		return cue.Value{}, fmt.Errorf("scene schema has no #SceneFile definition")
	}
	return def, nil
})

// ValidateSceneBytes checks untrusted scene-file JSON against the
// schema before it is decoded. Run this on anything fetched from
// shareable links or export storage; locally persisted state is
// trusted and skips it.
func ValidateSceneBytes(data []byte) error {
	def, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := cuejson.Validate(data, def); err != nil {
		return fmt.Errorf("scene file rejected by schema: %w", err)
	}
	return nil
}
