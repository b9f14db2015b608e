package toolkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	params []Parameter
}

func (s stubTool) Name() string             { return s.name }
func (s stubTool) Description() string      { return "stub tool " + s.name }
func (s stubTool) Parameters() []Parameter  { return s.params }
func (s stubTool) Execute(args map[string]any) Result {
	return Result{Success: true, Data: args}
}

func TestValidateArgsRejectsUnknownParameter(t *testing.T) {
	tool := stubTool{name: "echo", params: []Parameter{{Name: "text", Type: "string"}}}
	err := validateArgs(tool, map[string]any{"text": "hi", "bogus": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parameter")
}

func TestValidateArgsRejectsMissingRequired(t *testing.T) {
	tool := stubTool{name: "echo", params: []Parameter{{Name: "text", Type: "string", Required: true}}}
	err := validateArgs(tool, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameter")
}

func TestValidateArgsAcceptsWellFormedCall(t *testing.T) {
	tool := stubTool{name: "echo", params: []Parameter{
		{Name: "text", Type: "string", Required: true},
		{Name: "loud", Type: "boolean"},
	}}
	assert.NoError(t, validateArgs(tool, map[string]any{"text": "hi"}))
	assert.NoError(t, validateArgs(tool, map[string]any{"text": "hi", "loud": true}))
}

func TestRegistryExecuteUnknownToolReturnsFailedResultNotError(t *testing.T) {
	r := NewRegistry()
	res := r.Execute("missing", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Tool not found", res.Error)
}

func TestRegistryExecuteValidatesBeforeDispatch(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{name: "echo", params: []Parameter{{Name: "text", Type: "string", Required: true}}}
	require.NoError(t, r.Register(tool, "builtin"))

	res := r.Execute("echo", map[string]any{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "missing required parameter")

	res = r.Execute("echo", map[string]any{"text": "hi"})
	assert.True(t, res.Success)
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	tool := stubTool{name: "echo"}
	require.NoError(t, r.Register(tool, "builtin"))
	assert.Error(t, r.Register(tool, "builtin"))
}

func TestRegistryListFiltersByCategory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{name: "a"}, "fs"))
	require.NoError(t, r.Register(stubTool{name: "b"}, "net"))

	all := r.List("")
	assert.Len(t, all, 2)

	fsOnly := r.List("fs")
	require.Len(t, fsOnly, 1)
	assert.Equal(t, "a", fsOnly[0].Name)
}

func TestRegistryUnregisterRemovesTool(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubTool{name: "a"}, "fs"))
	require.NoError(t, r.Unregister("a"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}

func TestDeriveSchemaMarksRequiredAndTypes(t *testing.T) {
	params := []Parameter{
		{Name: "path", Type: "string", Required: true, Description: "file path"},
		{Name: "recursive", Type: "boolean"},
		{Name: "mode", Type: "string", Enum: []string{"read", "write"}},
	}
	schema := deriveSchema(params)

	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "path")
	require.Contains(t, props, "recursive")
	assert.Equal(t, "boolean", props["recursive"].(map[string]any)["type"])

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"path"}, required)

	_, hasSchemaKey := schema["$schema"]
	assert.False(t, hasSchemaKey, "$schema must be stripped from the derived schema")
}

func TestToDefinitionCarriesNameDescriptionAndSchema(t *testing.T) {
	tool := stubTool{name: "echo", params: []Parameter{{Name: "text", Type: "string", Required: true}}}
	def := ToDefinition(tool, "builtin")

	assert.Equal(t, "echo", def.Name)
	assert.Equal(t, "builtin", def.Category)
	assert.NotNil(t, def.Parameters)
}
