// Package memory locates interesting kernel memory.
//
// Symbol addresses differ between kernel builds, and on a single
// machine between boots when KASLR is enabled. An AddressTable keeps
// the addresses of symbols read from one such source (its context),
// for example the running kernel's /proc/kallsyms.
//
// Reading /proc/kallsyms
//
// The kernel exports its symbol table at /proc/kallsyms. Unless
// the reader is privileged, or kernel.kptr_restrict is zero, every
// address in the file reads as zero. ParseKallsyms reports such
// symbols with a zero Address, and LookupKallsyms and LoadKallsyms
// turn them into ErrSymbolHidden.
package memory
