// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bassosimone/runtimex"
	"github.com/miekg/dns"
)

const (
	// MaxTXTChunk is the maximum length of a single TXT character-string.
	MaxTXTChunk = 255

	// MaxLabelChunk is the maximum length of a single DNS label.
	MaxLabelChunk = 63
)

// EncodeAnswer wraps payload into a DNS answer message.
//
// The payload is encoded using standard, padded base64 and the text is split
// into [MaxTXTChunk] sized chunks. Each chunk becomes a TXT record in the
// answer section. The order of the records is the order of the chunks.
//
// The message ID is random and carries no meaning.
func EncodeAnswer(payload []byte) *dns.Msg {
	msg := &dns.Msg{}
	msg.Id = dns.Id()
	msg.Response = true
	msg.Compress = false
	for _, chunk := range chunkString(base64.StdEncoding.EncodeToString(payload), MaxTXTChunk) {
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   ".",
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    0,
			},
			Txt: []string{chunk},
		})
	}
	return msg
}

// EncodeQuery wraps payload into a DNS query message.
//
// The payload is encoded using unpadded, URL-safe base64 and the text is
// split into [MaxLabelChunk] sized chunks. Each chunk becomes the single label
// of a TXT question, so a message contains one question per chunk and no
// question name exceeds the wire limit of a domain name.
//
// The message ID is random and carries no meaning.
func EncodeQuery(payload []byte) *dns.Msg {
	msg := &dns.Msg{}
	msg.Id = dns.Id()
	msg.Opcode = dns.OpcodeQuery
	msg.RecursionDesired = true
	msg.Compress = false
	for _, chunk := range chunkString(base64.RawURLEncoding.EncodeToString(payload), MaxLabelChunk) {
		msg.Question = append(msg.Question, dns.Question{
			Name:   dns.Fqdn(chunk),
			Qtype:  dns.TypeTXT,
			Qclass: dns.ClassINET,
		})
	}
	return msg
}

// PackAnswer is like [EncodeAnswer] but returns the wire format.
func PackAnswer(payload []byte) ([]byte, error) {
	return EncodeAnswer(payload).Pack()
}

// PackQuery is like [EncodeQuery] but returns the wire format.
func PackQuery(payload []byte) ([]byte, error) {
	return EncodeQuery(payload).Pack()
}

// DecodeAnswer extracts the payload from a raw DNS answer message.
//
// The text of all the TXT records in the answer section is concatenated in
// record order and decoded as standard base64. The message ID is ignored.
//
// The returned error wraps [ErrUnpack], [ErrNotTXT], or [ErrDecode].
func DecodeAnswer(raw []byte) ([]byte, error) {
	msg := &dns.Msg{}
	if err := msg.Unpack(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnpack, err)
	}
	var text strings.Builder
	for _, rr := range msg.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotTXT, dns.TypeToString[rr.Header().Rrtype])
		}
		for _, s := range txt.Txt {
			text.WriteString(s)
		}
	}
	payload, err := base64.StdEncoding.DecodeString(text.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return payload, nil
}

// DecodeQuery extracts the payload from a raw DNS query message.
//
// The names of all the questions are concatenated in order, without the
// root label and without label separators, and decoded as unpadded,
// URL-safe base64. The message ID is ignored.
//
// The returned error wraps [ErrUnpack] or [ErrDecode].
func DecodeQuery(raw []byte) ([]byte, error) {
	msg := &dns.Msg{}
	if err := msg.Unpack(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnpack, err)
	}
	var text strings.Builder
	for _, q := range msg.Question {
		name := strings.TrimSuffix(q.Name, ".")
		text.WriteString(strings.ReplaceAll(name, ".", ""))
	}
	payload, err := base64.RawURLEncoding.DecodeString(text.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return payload, nil
}

// chunkString splits s into consecutive chunks of at most size bytes.
//
// The input is base64 text, therefore splitting at byte offsets is safe.
func chunkString(s string, size int) []string {
	runtimex.Assert(size > 0)
	chunks := make([]string, 0, (len(s)+size-1)/size)
	for len(s) > 0 {
		n := min(size, len(s))
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
