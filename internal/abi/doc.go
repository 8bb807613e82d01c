// Package abi holds overflow-checked size arithmetic shared by the layout
// resolver and the allocator.
package abi
