package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/tilth/pkg/core"
)

func TestFormatCommitMessage(t *testing.T) {
	assert.Equal(t, "feat(posts): add hello\n\nEdited-with: tilth",
		formatCommitMessage(commitTypeFeat, "posts", "add hello", ""))
	assert.Equal(t, "chore: tidy\n\nbody line\n\nEdited-with: tilth",
		formatCommitMessage("", "", "tidy", "  body line\n"))
}

func TestAppendFooter(t *testing.T) {
	assert.Equal(t, "fix typo\n\nEdited-with: tilth", appendFooter("fix typo\n"))
	assert.Equal(t, "fix typo\n\nEdited-with: tilth", appendFooter("fix typo\n\nEdited-with: tilth"))
}

func TestEntryCommitMessage(t *testing.T) {
	post := core.CollectionEntry("posts", "hello")
	settings := core.Singleton("settings")

	assert.Equal(t, "docs(posts): update posts/hello\n\nEdited-with: tilth", entryCommitMessage(post, "", "", ""))
	assert.Equal(t, "docs(settings): update settings\n\nEdited-with: tilth", entryCommitMessage(settings, "", "", ""))
	assert.Equal(t, "rename title\n\nEdited-with: tilth", entryCommitMessage(settings, "", "", "rename title"))
	assert.Equal(t, "fix(site): rename title\n\nEdited-with: tilth", entryCommitMessage(settings, commitTypeFix, "site", "rename title"))
}
