/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import "time"

// Entity traits. Concrete bun models embed the ones they need, e.g.
//
//	type Invoice struct {
//		bun.BaseModel `bun:"table:invoices"`
//		types.Identity[int64]
//		types.CreationInfo
//		types.ModificationInfo
//		types.SoftDelete
//		Number string `bun:"number,notnull"`
//	}

// Identity is a store generated surrogate key.
type Identity[K int16 | int32 | int64 | int] struct {
	ID K `bun:"id,pk,autoincrement" json:"id"`
}

// CreationInfo records who created the row and when.
type CreationInfo struct {
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	CreatorID string    `bun:"creator_id,nullzero" json:"creatorId,omitempty"`
}

// StampCreation sets the creation fields.
func (c *CreationInfo) StampCreation(actor string, at time.Time) {
	c.CreatedAt = at
	c.CreatorID = actor
}

// ModificationInfo records who last changed the row and when.
type ModificationInfo struct {
	UpdatedAt  time.Time `bun:"updated_at,nullzero" json:"updatedAt,omitempty"`
	ModifierID string    `bun:"modifier_id,nullzero" json:"modifierId,omitempty"`
}

// StampModification sets the modification fields.
func (m *ModificationInfo) StampModification(actor string, at time.Time) {
	m.UpdatedAt = at
	m.ModifierID = actor
}

// SoftDelete turns deletes into an update of deleted_at and hides deleted rows from selects.
type SoftDelete struct {
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deletedAt,omitempty"`
}

// IsDeleted reports whether the row has been soft deleted.
func (s SoftDelete) IsDeleted() bool { return !s.DeletedAt.IsZero() }

// CreationStamper is implemented by entities embedding CreationInfo.
type CreationStamper interface {
	StampCreation(actor string, at time.Time)
}

// ModificationStamper is implemented by entities embedding ModificationInfo.
type ModificationStamper interface {
	StampModification(actor string, at time.Time)
}
