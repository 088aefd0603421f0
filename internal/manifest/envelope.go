package manifest

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
)

// Envelope — подписанный конверт манифеста. Несет TOML-текст манифеста
// дословно плюс отсоединенную Ed25519-подпись и ссылку на публичный ключ.
// Инвариант: подпись покрывает точную байтовую последовательность
// ManifestTOML — любая ре-сериализация ее инвалидирует.
type Envelope struct {
	ManifestTOML string `json:"manifest_toml"`
	Signature    string `json:"signature"`  // base64, 64 байта
	PublicKey    string `json:"public_key"` // base64, 32 байта
	KeyID        string `json:"key_id,omitempty"`
}

// ParseEnvelope разбирает JSON-представление конверта.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, parseErr("malformed signed envelope", err)
	}
	if env.ManifestTOML == "" {
		return nil, validationErr("envelope carries no manifest text")
	}
	return &env, nil
}

// VerifySignature перепроверяет подпись над байтами манифеста.
// Возвращает false на любом дефекте входа (обрезанный ключ, битая
// base64 и т.д.) — без паник и без различения причин наружу.
func (env *Envelope) VerifySignature() bool {
	pub, err := base64.StdEncoding.DecodeString(env.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(env.ManifestTOML), sig)
}

// Seal подписывает байты манифеста закрытым ключом и собирает конверт.
// Используется CLI-подписантом; ядру нужна только верификация.
func Seal(manifestTOML string, priv ed25519.PrivateKey, keyID string) *Envelope {
	sig := ed25519.Sign(priv, []byte(manifestTOML))
	pub := priv.Public().(ed25519.PublicKey)
	return &Envelope{
		ManifestTOML: manifestTOML,
		Signature:    base64.StdEncoding.EncodeToString(sig),
		PublicKey:    base64.StdEncoding.EncodeToString(pub),
		KeyID:        keyID,
	}
}
