package txnlog

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/cypressdb/cypress-go/internal/core/domain"
	"github.com/cypressdb/cypress-go/pkg/crypto/adaptive"
)

// wireRecord is the JSON payload of a log frame. The transaction body is
// either inline or, when a cipher is configured, base64 of
// adaptive.Cipher.Encrypt(txnJSON).
type wireRecord struct {
	ClientID int64 `json:"client_id"`
	Cxid     int32 `json:"cxid"`
	Zxid     int64 `json:"zxid"`
	Time     int64 `json:"time"`

	Txn json.RawMessage `json:"txn,omitempty"`

	EncryptedTxn string `json:"enc_txn,omitempty"`
}

func encodeRecordFrame(rec *domain.TxnRecord, cipher adaptive.Cipher) ([]byte, error) {
	if rec == nil || rec.Header == nil {
		return nil, fmt.Errorf("txnlog: record has no header")
	}

	txnJSON, err := json.Marshal(rec.Txn)
	if err != nil {
		return nil, fmt.Errorf("txnlog: marshal txn: %w", err)
	}

	p := wireRecord{
		ClientID: rec.Header.ClientID,
		Cxid:     rec.Header.Cxid,
		Zxid:     rec.Header.Zxid,
		Time:     rec.Header.Time,
	}
	if cipher == nil {
		p.Txn = txnJSON
	} else {
		encrypted, err := cipher.Encrypt(txnJSON, nil)
		if err != nil {
			return nil, fmt.Errorf("txnlog: encrypt txn: %w", err)
		}
		p.EncryptedTxn = base64.StdEncoding.EncodeToString(encrypted)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("txnlog: marshal payload: %w", err)
	}

	typeByte := []byte{byte(int8(rec.Header.Type))}
	crc := crc32.ChecksumIEEE(append(typeByte, payload...))

	// Length = CRC(4) + Type(1) + Payload.
	length := uint32(4 + 1 + len(payload))

	out := make([]byte, 0, 4+int(length))
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], length)
	out = append(out, header[:]...)

	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)

	out = append(out, typeByte...)
	out = append(out, payload...)
	return out, nil
}

func decodeRecordFrame(frame []byte, cipher adaptive.Cipher) (*domain.TxnRecord, error) {
	// Frame layout: [crc32:4][type:1][payload...]
	if len(frame) < 5 {
		return nil, domain.ErrCorruptRecord.WithDetails("frame shorter than 5 bytes")
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	typeByte := frame[4]
	payload := frame[5:]

	gotCRC := crc32.ChecksumIEEE(append([]byte{typeByte}, payload...))
	if gotCRC != wantCRC {
		return nil, domain.ErrCorruptRecord.WithDetails("crc mismatch")
	}

	var p wireRecord
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, domain.ErrCorruptRecord.WithCause(err).WithDetails("unmarshal payload")
	}

	op := domain.OpCode(int8(typeByte))
	hdr := &domain.TxnHeader{
		ClientID: p.ClientID,
		Cxid:     p.Cxid,
		Zxid:     p.Zxid,
		Time:     p.Time,
		Type:     op,
	}

	txnJSON := []byte(p.Txn)
	if p.EncryptedTxn != "" {
		if cipher == nil {
			return nil, fmt.Errorf("txnlog: encrypted record requires cipher")
		}
		ciphertext, err := base64.StdEncoding.DecodeString(p.EncryptedTxn)
		if err != nil {
			return nil, domain.ErrCorruptRecord.WithCause(err).WithDetails("decode encrypted txn")
		}
		txnJSON, err = cipher.Decrypt(ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("txnlog: decrypt txn: %w", err)
		}
	}

	txn, err := decodeTxn(op, txnJSON)
	if err != nil {
		return nil, err
	}
	return &domain.TxnRecord{Header: hdr, Txn: txn}, nil
}

func decodeTxn(op domain.OpCode, txnJSON []byte) (any, error) {
	unmarshal := func(v any) (any, error) {
		if err := json.Unmarshal(txnJSON, v); err != nil {
			return nil, domain.ErrCorruptRecord.WithCause(err).WithDetails("unmarshal " + op.String() + " txn")
		}
		return v, nil
	}

	switch op {
	case domain.OpCreate:
		return unmarshal(&domain.CreateTxn{})
	case domain.OpDelete:
		return unmarshal(&domain.DeleteTxn{})
	case domain.OpSetData:
		return unmarshal(&domain.SetDataTxn{})
	case domain.OpSetACL:
		return unmarshal(&domain.SetACLTxn{})
	case domain.OpCreateSession:
		return unmarshal(&domain.CreateSessionTxn{})
	case domain.OpCloseSession:
		return unmarshal(&domain.CloseSessionTxn{})
	case domain.OpError:
		return unmarshal(&domain.ErrorTxn{})
	default:
		return nil, domain.ErrCorruptRecord.WithDetails(fmt.Sprintf("unknown op type %d", int32(op)))
	}
}
