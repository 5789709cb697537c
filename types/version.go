package types

// Version is the canonical project version.
// The CLI, the IPC contract and the stored record layout share this version.
const Version = "0.3.0"

// ContractVersion is the version of the request/response frame contract.
// It moves in lockstep with Version.
const ContractVersion = Version
