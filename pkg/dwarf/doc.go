// Package dwarf is the from-scratch DWARF v2-4 (32-bit) decoder this
// module is built around: compilation units, the abbreviation table,
// debugging information entries and their attributes, the line-number
// program (package line), call frame information (package frame), the
// location expression evaluator (package op), and the aranges/pubnames
// accelerator tables. It never delegates to the standard library's
// debug/dwarf package.
package dwarf
