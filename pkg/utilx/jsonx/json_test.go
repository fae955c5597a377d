package jsonx_test

import (
	"testing"

	"github.com/marcodd23/go-txscope/pkg/utilx/jsonx"
	"github.com/stretchr/testify/assert"
)

func TestRenderParams(t *testing.T) {
	assert.Equal(t, "", jsonx.RenderParams(nil))
	assert.Equal(t, `["user0",42,true]`, jsonx.RenderParams([]any{"user0", 42, true}))
}

func TestRenderParamsFallsBackForUnencodableValues(t *testing.T) {
	ch := make(chan int)
	assert.NotEmpty(t, jsonx.RenderParams([]any{ch}))
}
