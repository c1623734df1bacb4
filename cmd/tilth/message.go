package main

import (
	"strings"

	"github.com/aretw0/tilth/pkg/core"
)

const (
	commitTypeFeat  = "feat"
	commitTypeFix   = "fix"
	commitTypeDocs  = "docs"
	commitTypeChore = "chore"

	commitFooter = "Edited-with: tilth"
)

// formatCommitMessage builds a Conventional Commit message:
//
//	<type>(<scope>): <subject>
//
//	<body>
//
//	Edited-with: tilth
func formatCommitMessage(ctype, scope, subject, body string) string {
	var sb strings.Builder

	if ctype == "" {
		ctype = commitTypeChore
	}
	sb.WriteString(ctype)
	if scope != "" {
		sb.WriteString("(")
		sb.WriteString(scope)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(subject)

	if body = strings.TrimSpace(body); body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(body)
	}

	sb.WriteString("\n\n")
	sb.WriteString(commitFooter)
	return sb.String()
}

// appendFooter adds the footer to a free-form message unless it is already present.
func appendFooter(msg string) string {
	if strings.Contains(msg, commitFooter) {
		return msg
	}
	msg = strings.TrimRight(msg, "\n")
	return msg + "\n\n" + commitFooter
}

// entryCommitMessage is the message of "tilth commit". A free-form message wins over
// the conventional form; the scope defaults to the singleton or collection name.
func entryCommitMessage(id core.EntryIdentity, ctype, scope, message string) string {
	if message != "" && ctype == "" {
		return appendFooter(message)
	}
	if ctype == "" {
		ctype = commitTypeDocs
	}
	if scope == "" {
		scope = id.Name
	}
	subject := message
	if subject == "" {
		subject = "update " + id.Name
		if id.Slug != "" {
			subject += "/" + id.Slug
		}
	}
	return formatCommitMessage(ctype, scope, subject, "")
}
