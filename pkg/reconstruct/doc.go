// Package reconstruct implements §4.9: rebuild a container's original
// bytes in memory from nothing but a BlobRef and object storage, by
// loading its manifest (§4.8), resolving the Handler its format-key
// names, and recursively supplying each entry's child bytes — leaves
// read from storage, nested containers reconstructed first, and
// directories synthesized as an empty buffer.
package reconstruct
