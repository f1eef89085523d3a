// Package flow validates and decodes flow templates.
package flow
