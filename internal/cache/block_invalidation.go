package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/annel0/dust-map/internal/logging"
	"github.com/annel0/dust-map/internal/vec"
)

const blockKeyPrefix = "block:"

// BlockEvictor локальный кеш декодированных блоков (world.Gateway)
type BlockEvictor interface {
	Invalidate(pos vec.Vec3)
}

// PosKey ключ инвалидации блока: "block:x,y,z"
func PosKey(pos vec.Vec3) string {
	return fmt.Sprintf("%s%d,%d,%d", blockKeyPrefix, pos.X, pos.Y, pos.Z)
}

// ParsePosKey обратная операция к PosKey
func ParsePosKey(key string) (vec.Vec3, error) {
	if !strings.HasPrefix(key, blockKeyPrefix) {
		return vec.Vec3{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	var pos vec.Vec3
	if _, err := fmt.Sscanf(key[len(blockKeyPrefix):], "%d,%d,%d", &pos.X, &pos.Y, &pos.Z); err != nil {
		return vec.Vec3{}, fmt.Errorf("%w: %q: %v", ErrInvalidKey, key, err)
	}
	return pos, nil
}

// BlockInvalidation сбрасывает блок из локального кеша и оповещает
// остальные экземпляры. Без invalidator работает только локально.
type BlockInvalidation struct {
	local BlockEvictor
	inv   CacheInvalidator
	log   *logging.Logger
}

// NewBlockInvalidation; inv может быть nil
func NewBlockInvalidation(local BlockEvictor, inv CacheInvalidator) *BlockInvalidation {
	return &BlockInvalidation{
		local: local,
		inv:   inv,
		log:   logging.GetComponentLogger("cache"),
	}
}

// Invalidate сбрасывает pos локально и публикует ключ
func (b *BlockInvalidation) Invalidate(ctx context.Context, pos vec.Vec3) error {
	b.local.Invalidate(pos)
	b.log.Debug("Блок %s сброшен из кеша", pos)

	if b.inv == nil {
		return nil
	}
	return b.inv.PublishInvalidation(ctx, PosKey(pos))
}

// Start подписывается на инвалидации других экземпляров
func (b *BlockInvalidation) Start(ctx context.Context) error {
	if b.inv == nil {
		return nil
	}
	return b.inv.SubscribeInvalidations(ctx, b.handle)
}

func (b *BlockInvalidation) handle(key string) error {
	pos, err := ParsePosKey(key)
	if err != nil {
		return err
	}
	b.local.Invalidate(pos)
	b.log.Debug("Блок %s сброшен по уведомлению", pos)
	return nil
}
