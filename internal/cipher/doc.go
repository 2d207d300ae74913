// Package cipher implements the optional payload envelope applied to
// outbound backend messages.
//
// Payloads are encrypted with Triple DES in ECB mode with PKCS#7 padding
// under a 24 byte base64 key. The ciphertext travels in one of two
// wire-incompatible envelopes:
//
//   - FormatCompact (protocol v2, the default): {"p": ..., "msz": n}
//   - FormatVerbose (protocol v1, legacy):      {"payload": ..., "msgsize": n}
//
// Every payload also carries a magic number: a random 32 bit value OR'ed with
// MagicNumber. The backend accepts a payload only if (n & mask) == mask.
package cipher
