// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import "errors"

var (
	// ErrUnpack indicates that raw bytes are not a valid DNS message.
	ErrUnpack = errors.New("udpdnstun: cannot unpack DNS message")

	// ErrDecode indicates that the text carried by a DNS message is not
	// valid base64 for the expected alphabet.
	ErrDecode = errors.New("udpdnstun: cannot decode payload")

	// ErrNotTXT indicates that an answer record is not a TXT record.
	ErrNotTXT = errors.New("udpdnstun: answer record is not TXT")

	// ErrInvalidConfig indicates that a [*Config] failed validation.
	ErrInvalidConfig = errors.New("udpdnstun: invalid config")
)
