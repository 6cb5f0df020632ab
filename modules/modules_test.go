package modules_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot/modules"
)

type greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

type initRecorder struct {
	built bool
	core  *modules.Core
}

func (r *initRecorder) InitModule(mods *modules.Core) {
	r.built = true
	r.core = mods
}

func TestGetResolvesByInterfaceAssignability(t *testing.T) {
	core := modules.NewCore()
	core.Register(englishGreeter{})
	core.Build()

	var g greeter
	core.Get(&g)
	assert.Equal(t, "hello", g.Greet())
}

func TestGetPanicsWhenNothingSatisfiesTarget(t *testing.T) {
	core := modules.NewCore()
	core.Build()

	var g greeter
	assert.Panics(t, func() { core.Get(&g) })
}

func TestTryGetReturnsFalseInsteadOfPanicking(t *testing.T) {
	core := modules.NewCore()
	core.Build()

	var g greeter
	assert.False(t, core.TryGet(&g))
}

func TestTryGetReturnsTrueWhenSatisfied(t *testing.T) {
	core := modules.NewCore()
	core.Register(englishGreeter{})
	core.Build()

	var g greeter
	assert.True(t, core.TryGet(&g))
}

func TestBuildCallsInitModuleExactlyOnce(t *testing.T) {
	rec := &initRecorder{}
	core := modules.NewCore()
	core.Register(rec)

	core.Build()
	assert.True(t, rec.built)
	assert.Same(t, core, rec.core)

	rec.built = false
	core.Build() // idempotent: a second Build must not re-invoke InitModule
	assert.False(t, rec.built)
}

func TestRegisterAfterBuildPanics(t *testing.T) {
	core := modules.NewCore()
	core.Build()
	assert.Panics(t, func() { core.Register(englishGreeter{}) })
}

func TestGetByTypeMatchesExactConcreteTypeOnly(t *testing.T) {
	core := modules.NewCore()
	core.Register(englishGreeter{})
	core.Build()

	var g englishGreeter
	require.True(t, core.GetByType(&g))

	type frenchGreeter struct{ englishGreeter }
	var fg frenchGreeter
	assert.False(t, core.GetByType(&fg), "GetByType must not match by embedding or interface satisfaction")
}

func TestGetByTypeTargetMustBePointer(t *testing.T) {
	core := modules.NewCore()
	assert.Panics(t, func() {
		var g englishGreeter
		core.GetByType(g)
	})
}

func TestRegisterNamedAndGetModuleRoundTrip(t *testing.T) {
	modules.RegisterNamed("modules-test-greeter", func() any { return englishGreeter{} })

	g, ok := modules.GetModule[greeter]("modules-test-greeter")
	require.True(t, ok)
	assert.Equal(t, "hello", g.Greet())
}

func TestGetModuleReportsFalseForUnknownName(t *testing.T) {
	_, ok := modules.GetModule[greeter]("modules-test-does-not-exist")
	assert.False(t, ok)
}

func TestGetModuleReportsFalseOnTypeMismatch(t *testing.T) {
	modules.RegisterNamed("modules-test-wrong-type", func() any { return 42 })

	_, ok := modules.GetModule[greeter]("modules-test-wrong-type")
	assert.False(t, ok)
}

func TestOptionsIDAndConnectionMetadata(t *testing.T) {
	opts := modules.NewOptions(3)
	assert.Equal(t, uint32(3), uint32(opts.ID()))

	assert.False(t, opts.ShouldVerifyVotesSync())
	opts.SetShouldVerifyVotesSync()
	assert.True(t, opts.ShouldVerifyVotesSync())

	opts.SetConnectionMetadata("region", "us-east")
	assert.Equal(t, "us-east", opts.ConnectionMetadata()["region"])
}
