package ident

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func TestIsLayerID(t *testing.T) {
	valid := strings.Repeat("a", 64)
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", valid, true},
		{"uppercase", strings.ToUpper(valid), false},
		{"too short", valid[:63], false},
		{"too long", valid + "a", false},
		{"non hex", strings.Repeat("g", 64), false},
		{"empty", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, IsLayerID(c.in), c.want)
		})
	}
}

func TestIsRepositoryName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"simple", "library/ubuntu", true},
		{"single", "ubuntu", true},
		{"with dash", "my-org/my-repo", true},
		{"uppercase rejected", "Library/Ubuntu", false},
		{"empty", "", false},
		{"trailing slash", "ubuntu/", false},
		{"double slash", "a//b", false},
		{"too long", strings.Repeat("a", 256), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, IsRepositoryName(c.in), c.want)
		})
	}
}

func TestIsTag(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"latest", "latest", true},
		{"versioned", "1.2.3-rc1", true},
		{"empty", "", false},
		{"leading dash", "-bad", false},
		{"leading dot", ".bad", false},
		{"too long", strings.Repeat("a", 129), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, IsTag(c.in), c.want)
		})
	}
}

func TestIsMachineName(t *testing.T) {
	assert.Equal(t, IsMachineName("m1"), true)
	assert.Equal(t, IsMachineName(""), false)
	assert.Equal(t, IsMachineName(strings.Repeat("a", 65)), false)
	assert.Equal(t, IsMachineName("-bad"), false)
	assert.Equal(t, IsMachineName("bad-"), false)
}

func TestIsHostname(t *testing.T) {
	assert.Equal(t, IsHostname("registry.example.com"), true)
	assert.Equal(t, IsHostname("localhost"), true)
	assert.Equal(t, IsHostname(""), false)
	assert.Equal(t, IsHostname("-bad.example.com"), false)
	assert.Equal(t, IsHostname("example..com"), false)
}
