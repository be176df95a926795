package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration.
const (
	DomainOperation = "smelt/operation/v1"
	DomainModule    = "smelt/module/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint computes a content-addressed identity for one operation:
// its opcode, operand and result types, attributes, and (recursively) its
// regions. Two structurally identical operations produce the same
// fingerprint regardless of value numbering.
func Fingerprint(g *Graph, op *Operation) string {
	var sb strings.Builder
	encodeOp(g, op, &sb)
	return hashWithDomain(DomainOperation, []byte(sb.String()))
}

// ModuleFingerprint computes a content-addressed identity for the whole
// graph in program order.
func ModuleFingerprint(g *Graph) string {
	var sb strings.Builder
	for _, op := range g.root.Ops() {
		encodeOp(g, op, &sb)
		sb.WriteByte('\n')
	}
	return hashWithDomain(DomainModule, []byte(sb.String()))
}

func encodeOp(g *Graph, op *Operation, sb *strings.Builder) {
	sb.WriteString(op.Opcode.String())
	if op.Sym != "" {
		// Symbol names are NFC normalized at the hashing boundary.
		fmt.Fprintf(sb, " @%s", norm.NFC.String(op.Sym))
	}
	sb.WriteByte('(')
	for i, v := range op.Operands {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g.ValueType(v).String())
	}
	sb.WriteString(")->(")
	for i, v := range op.Results {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(g.ValueType(v).String())
	}
	sb.WriteByte(')')
	for _, m := range op.IndexMaps {
		sb.WriteString(m.String())
	}
	for _, it := range op.Iterators {
		sb.WriteByte(' ')
		sb.WriteString(it.String())
	}
	if op.Kind != nil {
		fmt.Fprintf(sb, " kind=%s", norm.NFC.String(op.Kind.Name()))
	}
	encodeInts(sb, "lb", op.StaticLB)
	encodeInts(sb, "ub", op.StaticUB)
	encodeInts(sb, "step", op.StaticStep)
	encodeInts(sb, "off", op.StaticOffsets)
	encodeInts(sb, "sz", op.StaticSizes)
	encodeInts(sb, "str", op.StaticStrides)
	encodeInts(sb, "bounds", op.Bounds)
	encodeInts(sb, "dims", op.Dims)
	for _, m := range op.Mapping {
		sb.WriteByte(' ')
		sb.WriteString(m.String())
	}
	if op.Opcode == OpConstant {
		fmt.Fprintf(sb, " const=%d/%g/%d", op.ConstKind, op.Splat, op.Int)
	}
	for _, r := range op.Regions {
		sb.WriteByte('{')
		for i, arg := range r.args {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(g.ValueType(arg).String())
		}
		sb.WriteByte(':')
		for _, inner := range r.Ops() {
			encodeOp(g, inner, sb)
			sb.WriteByte(';')
		}
		sb.WriteByte('}')
	}
}

func encodeInts(sb *strings.Builder, tag string, vals []int64) {
	if len(vals) == 0 {
		return
	}
	fmt.Fprintf(sb, " %s=%v", tag, vals)
}
