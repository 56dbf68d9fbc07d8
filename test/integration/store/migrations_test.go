// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rowguard Contributors

//go:build integration

package store_test

import (
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/rowguard/rowguard/internal/dbschema"
)

var _ = Describe("Migrator", func() {
	It("reports the latest version with nothing pending", func() {
		m, err := dbschema.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		versions, err := dbschema.Versions()
		Expect(err).NotTo(HaveOccurred())

		version, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(Equal(versions[len(versions)-1]))

		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
	})

	It("treats a repeated up as a no-op", func() {
		m, err := dbschema.NewMigrator(env.connStr)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = m.Close() }()

		Expect(m.Up()).To(Succeed())
	})
})
