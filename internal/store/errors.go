package store

import (
	"errors"
	"fmt"

	"portfwd/internal/rule"
)

var (
	ErrNotFound    = errors.New("规则不存在")
	ErrStorage     = errors.New("存储错误")
	ErrInvalidRule = errors.New("规则未通过校验，拒绝写入")
	ErrMissingID   = errors.New("更新规则需要已分配的 ID")
)

/*
NotFoundError 指定 ID 的规则不存在
*/
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("规则不存在: id=%d", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

/*
StorageError 底层存储失败
功能：不做自动重试，由调用方决定
*/
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储操作 %s 失败: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

/*
Kind 错误分类，供 API 层映射状态码
*/
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalid
	KindNotFound
	KindDecode
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindDecode:
		return "decode"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

/*
FromError 返回错误所属的分类
*/
func FromError(err error) Kind {
	var decodeErr *rule.DecodeError
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidRule), errors.Is(err, ErrMissingID), errors.Is(err, rule.ErrInvalid):
		return KindInvalid
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindUnknown
	}
}

/*
invalidRule 把校验错误包装为 ErrInvalidRule，同时保留字段级错误
*/
func invalidRule(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRule, err)
}

/* readErr 读取路径的错误：列值无法解码时保留 *rule.DecodeError，其余视为存储错误 */
func readErr(op string, err error) error {
	var decodeErr *rule.DecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
