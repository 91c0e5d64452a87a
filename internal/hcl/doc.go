// Package hcl provides the HCL implementation of config.Loader. It is
// responsible for file parsing, HCL-to-model translation and the conversion
// of worker globals from cty values into plain Go values.
package hcl
