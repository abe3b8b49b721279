// Package toolpack bundles the demonstration tool sets served by mcpd. A
// pack is selected by name at startup; each pack returns ready-to-register
// static tools.
package toolpack
